package fetcher

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxBodyBytes = 2 << 20

// doJSON executes req and decodes a 2xx JSON body into out. Any transport
// failure, non-2xx status or undecodable body is ErrProviderUnavailable.
func doJSON(client *http.Client, req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxBodyBytes)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(body, 256))
		return fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %w", ErrProviderUnavailable, err)
	}
	return nil
}

func trimBase(raw, def string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		s = def
	}
	return strings.TrimRight(s, "/")
}
