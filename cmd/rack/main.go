package main

import (
	"github.com/function61/gokit/osutil"
	"github.com/function61/rack/pkg/rack"
)

func main() {
	osutil.ExitIfError(rack.Entrypoint().Execute())
}
