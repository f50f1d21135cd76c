package extraction

import (
	"context"
	"strings"
)

// minProbeText is the amount of text a probe must see before a file is
// considered to have a text layer.
const minProbeText = 20

// probePages limits the quick parse to the first few pages.
const probePages = 3

// probeFunc extracts a sample of text from the leading pages.
type probeFunc func(ctx context.Context, data []byte) (string, error)

func streamProbe(ctx context.Context, data []byte) (string, error) {
	return runBounded(ctx, func() (string, error) {
		text, _, err := streamText(ctx, data, probePages)
		return text, err
	})
}

// looksImageBased runs probe and reports whether the document should skip
// straight to OCR. Inconclusive probes (timeouts, other errors) report false
// so the full chain still runs.
func looksImageBased(ctx context.Context, probe probeFunc, data []byte) bool {
	text, err := probe(ctx, data)
	if err != nil {
		msg := strings.ToLower(err.Error())
		return strings.Contains(msg, "color space") ||
			strings.Contains(msg, "colorspace") ||
			strings.Contains(msg, "unimplemented") ||
			strings.Contains(msg, "not implemented")
	}
	return len(strings.TrimSpace(text)) < minProbeText
}
