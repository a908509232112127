// Command bairros resolves coordinates to the neighborhood polygon that contains them.
package main

import (
	"os"

	"bairrosgo/pkg/version"
)

func main() {
	if err := Execute(version.Version); err != nil {
		os.Exit(1)
	}
}
