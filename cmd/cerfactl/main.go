// Command cerfactl fills and inspects the CERFA template offline, with the
// same mapping and filling rules as the server.
package main

import (
	"os"

	"github.com/AnTengye/cerfaflow/pkg/pdfform"
)

func main() {
	if err := newRootCommand(pdfform.OpenPDF).Execute(); err != nil {
		os.Exit(1)
	}
}
