package main

import "github.com/theirongolddev/hegelpm/cmd"

func main() {
	cmd.Execute()
}
