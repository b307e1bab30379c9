package main

import "github.com/mpelikan/stridedash/internal/cmd"

func main() {
	cmd.Execute()
}
