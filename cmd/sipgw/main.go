// Command sipgw runs the SIP2 gateway.
package main

import (
	"fmt"
	"os"

	logs "github.com/danmuck/sip2gate/internal/logging"
)

func main() {
	logs.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sipgw: %v\n", err)
		os.Exit(1)
	}
}
