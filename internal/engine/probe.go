package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/IsaacGridGainsDev/torrentlite/internal/engine/types"
	"github.com/IsaacGridGainsDev/torrentlite/internal/utils"
)

// ProbeResult contains the server capability metadata a plan is built on.
type ProbeResult struct {
	TotalSize     int64 // -1 when the server did not report a size
	SupportsRange bool
	Filename      string
	ContentType   string

	// Validators captured at plan time so a resume after restart can
	// detect that the remote content changed underneath the plan.
	ETag         string
	LastModified string
}

// HasValidators reports whether the server offered any freshness
// validator usable for resume-across-restart checks.
func (p *ProbeResult) HasValidators() bool {
	return p.ETag != "" || p.LastModified != ""
}

// Probe determines range support and total size for a URL. It tries a
// HEAD request first; when HEAD is rejected or unsupported it falls
// back to a minimal ranged GET (bytes=0-0). The probe is idempotent and
// leaves no state behind.
func Probe(ctx context.Context, client *http.Client, rawurl string, runtime *types.RuntimeConfig) (*ProbeResult, error) {
	log := utils.GetLogger("probe")

	probeCtx, cancel := context.WithTimeout(ctx, runtime.GetRequestTimeout())
	defer cancel()

	if result, err := probeHead(probeCtx, client, rawurl, runtime); err == nil {
		return result, nil
	} else if ctx.Err() != nil {
		return nil, NewError(KindProbe, "probe aborted", ctx.Err())
	} else {
		log.Debug().Err(err).Msg("HEAD probe failed, falling back to ranged GET")
	}

	return probeRangedGet(probeCtx, client, rawurl, runtime)
}

// probeHead issues a HEAD request and reads capabilities from headers.
func probeHead(ctx context.Context, client *http.Client, rawurl string, runtime *types.RuntimeConfig) (*ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawurl, nil)
	if err != nil {
		return nil, NewError(KindProbe, "failed to create probe request", err)
	}
	req.Header.Set("User-Agent", runtime.GetUserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return nil, NewError(KindProbe, "HEAD request failed", err)
	}
	defer drainClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, statusError(rawurl, resp.StatusCode)
	}

	result := &ProbeResult{TotalSize: -1}
	result.SupportsRange = strings.Contains(
		strings.ToLower(resp.Header.Get("Accept-Ranges")), "bytes")
	if resp.ContentLength >= 0 {
		result.TotalSize = resp.ContentLength
	}
	fillMetadata(result, rawurl, resp)

	// A range-capable server that hides the size cannot be segmented
	// anyway; an absent Content-Length with Accept-Ranges set usually
	// means a misleading HEAD handler, so verify with a ranged GET.
	if result.SupportsRange && result.TotalSize < 0 {
		return nil, fmt.Errorf("HEAD reported ranges without a size: %w", ErrProbeAmbiguous)
	}

	return result, nil
}

// probeRangedGet issues GET with Range: bytes=0-0 and classifies the
// answer: 206 means ranges are honored (size from Content-Range), 200
// means they are ignored (size from Content-Length).
func probeRangedGet(ctx context.Context, client *http.Client, rawurl string, runtime *types.RuntimeConfig) (*ProbeResult, error) {
	log := utils.GetLogger("probe")

	var resp *http.Response
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, NewError(KindProbe, "probe aborted", ctx.Err())
			case <-time.After(time.Second):
			}
			log.Debug().Int("attempt", attempt+1).Msg("retrying probe")
		}

		var req *http.Request
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
		if err != nil {
			return nil, NewError(KindProbe, "failed to create probe request", err)
		}
		req.Header.Set("Range", "bytes=0-0")
		req.Header.Set("User-Agent", runtime.GetUserAgent())

		resp, err = client.Do(req)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, NewError(KindProbe, "server unreachable", err)
	}
	defer drainClose(resp.Body)

	result := &ProbeResult{TotalSize: -1}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		result.SupportsRange = true
		size, err := parseContentRangeTotal(resp.Header.Get("Content-Range"))
		if err != nil {
			return nil, NewError(KindProbe, "206 without a usable Content-Range", ErrProbeAmbiguous)
		}
		result.TotalSize = size

	case http.StatusOK:
		result.SupportsRange = false
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			if size, err := strconv.ParseInt(cl, 10, 64); err == nil {
				result.TotalSize = size
			}
		}

	default:
		return nil, statusError(rawurl, resp.StatusCode)
	}

	fillMetadata(result, rawurl, resp)
	log.Debug().
		Str("url", rawurl).
		Int64("size", result.TotalSize).
		Bool("ranges", result.SupportsRange).
		Msg("probe complete")

	return result, nil
}

// fillMetadata copies filename, content type and validators off a
// probe response.
func fillMetadata(result *ProbeResult, rawurl string, resp *http.Response) {
	result.Filename = utils.DetermineFilename(rawurl, resp.Header)
	result.ContentType = resp.Header.Get("Content-Type")
	result.ETag = resp.Header.Get("ETag")
	result.LastModified = resp.Header.Get("Last-Modified")
}

// parseContentRangeTotal extracts the complete length from a
// Content-Range header ("bytes 0-0/12345"). A "*" length or malformed
// header is an error.
func parseContentRangeTotal(contentRange string) (int64, error) {
	idx := strings.LastIndex(contentRange, "/")
	if idx == -1 {
		return 0, fmt.Errorf("malformed Content-Range %q", contentRange)
	}
	sizeStr := contentRange[idx+1:]
	if sizeStr == "*" {
		return 0, fmt.Errorf("Content-Range reports unknown length")
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("malformed Content-Range %q", contentRange)
	}
	return size, nil
}

// drainClose drains any remaining body so the connection can be reused.
func drainClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 32*types.KB))
	_ = body.Close()
}
