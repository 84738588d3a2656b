// The main package for the sitescraper executable.
package main

import (
	"github.com/JakeFAU/site-scraper/cmd"
)

func main() {
	cmd.Execute()
}
