// SPDX-License-Identifier: MPL-2.0

package main

import cmd "hytale-panel/cmd/hytale-panel"

func main() {
	cmd.Execute()
}
