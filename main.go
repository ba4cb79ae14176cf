// The main package for the bssid-geolocator executable.
package main

import (
	"github.com/JakeFAU/bssid-geolocator/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
