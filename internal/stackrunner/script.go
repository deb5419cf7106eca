// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package stackrunner

import (
	"fmt"
	"os"
	"strings"

	"github.com/dgedgedge/darklib/internal/config"
)

// writeScript synthesises the textual stacking script and writes it to
// a temporary file inside the staging directory, returning its path.
// The script's shape (convert sequence, stack, save) is identical
// across invocation modes (§4.6); only the argv prefix in Runner.argv
// varies.
func writeScript(stagingDir string, nFrames int, params config.StackParams) (string, error) {
	body := renderScript(nFrames, params)
	f, err := os.CreateTemp(stagingDir, "stack-*.script")
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(body); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func renderScript(nFrames int, params config.StackParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "convert stacked -debayer -fitseq -out=.\n")
	if rej := rejectionScriptToken(params.RejectionMethod); rej == "" {
		fmt.Fprintf(&b, "stack stacked %s -norm=%s\n", params.StackMethod, params.OutputNorm)
	} else {
		fmt.Fprintf(&b, "stack stacked %s %s %.4f %.4f -norm=%s\n",
			params.StackMethod, rej, params.RejectionParam1, params.RejectionParam2, params.OutputNorm)
	}
	fmt.Fprintf(&b, "save %s\n", strings.TrimSuffix(intermediateOutputName, ".fits"))
	return b.String()
}

// rejectionScriptToken maps the configured rejection method to the
// engine's own script token. "none" stacks are scripted without a
// rejection clause at all.
func rejectionScriptToken(m config.RejectionMethod) string {
	switch m {
	case config.RejectNone:
		return ""
	case config.RejectMinMax:
		return "-minmax"
	case config.RejectPercentile:
		return "-percentile"
	case config.RejectSigma:
		return "-sigma"
	default: // winsorized_sigma
		return "-winsorized"
	}
}
