package main

import "github.com/nhle/mailsift/internal/cli"

func main() {
	cli.Execute()
}
