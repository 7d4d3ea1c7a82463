package main

import (
	"os"

	"github.com/JakeFAU/pcspec-crawler/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
