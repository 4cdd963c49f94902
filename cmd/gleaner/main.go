// File: cmd/gleaner/main.go
package main

import (
	"github.com/xkilldash9x/gleaner/cmd"
)

func main() {
	cmd.Execute()
}
