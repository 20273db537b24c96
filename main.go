// Command reqcheck lints dependency manifests and checks that their minimum
// versions resolve without conflicts.
package main

import "github.com/ethanolivertroy/reqcheck/cmd"

func main() {
	cmd.Execute()
}
