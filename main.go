// main.go
package main

import (
	"fmt"

	"robotcrypt/cmd"
)

const banner = `
             _           _                           _
   _ __ ___ | |__   ___ | |_    ___ _ __ _   _ _ __ | |_
  | '__/ _ \| '_ \ / _ \| __|  / __| '__| | | | '_ \| __|
  | | | (_) | |_) | (_) | |_  | (__| |  | |_| | |_) | |_
  |_|  \___/|_.__/ \___/ \__|  \___|_|   \__, | .__/ \__|
                                         |___/|_|
        hybrid technical + sentiment decision engine
[]=========================================================[]
`

func main() {
	fmt.Print(banner + "\n")
	cmd.Execute()
}
