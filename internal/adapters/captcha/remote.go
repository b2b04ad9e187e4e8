package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ohmynofan/wos-giftcode-bot/internal/domain/model"
)

const remoteRecognizePath = "/ocr"

// Remote sends images to an OCR inference server. The server may run the
// model on an accelerator selected by Device.
type Remote struct {
	client   *http.Client
	endpoint string
	device   string
}

func NewRemote(endpoint, device string, timeout time.Duration) (*Remote, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Remote{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		device:   strings.TrimSpace(device),
	}, nil
}

type remoteRequest struct {
	Image   string `json:"image"`
	Device  string `json:"device,omitempty"`
	Charset string `json:"charset"`
	Length  int    `json:"length"`
}

type remoteResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Results []struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	} `json:"results"`
}

func (r *Remote) Recognize(ctx context.Context, img image.Image) ([]model.Recognition, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("ocr encode: %w", err)
	}

	payload := remoteRequest{
		Image:   base64.StdEncoding.EncodeToString(buf.Bytes()),
		Device:  r.device,
		Charset: CharsetAlphanumeric,
		Length:  DefaultCodeLength,
	}
	var res remoteResponse
	if err := r.postJSON(ctx, remoteRecognizePath, payload, &res); err != nil {
		return nil, err
	}

	switch strings.ToUpper(strings.TrimSpace(res.Code)) {
	case "", "OK":
	case RemoteErrBusy:
		return nil, ErrEngineBusy
	case RemoteErrNoDevice:
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, r.device)
	case RemoteErrBadImage:
		// an unreadable variant yields no readings
		return nil, nil
	default:
		return nil, fmt.Errorf("ocr server error: %s %s", res.Code, res.Message)
	}

	out := make([]model.Recognition, 0, len(res.Results))
	for _, item := range res.Results {
		conf := item.Confidence
		if conf > 1 {
			conf /= 100
		}
		out = append(out, model.Recognition{Text: item.Text, Confidence: conf})
	}
	return out, nil
}

func (r *Remote) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

func (r *Remote) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	endpoint := fmt.Sprintf("%s%s", r.endpoint, path)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ocr encode error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("ocr request build error: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := r.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ocr http error: %w", err)
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("ocr read error: %w", err)
	}

	if res.StatusCode == http.StatusServiceUnavailable || res.StatusCode == http.StatusTooManyRequests {
		return ErrEngineBusy
	}
	if res.StatusCode >= 400 {
		return fmt.Errorf("ocr status %s body=%s", res.Status, strings.TrimSpace(string(resBody)))
	}

	if err := json.Unmarshal(resBody, out); err != nil {
		return fmt.Errorf("ocr decode error: %w", err)
	}
	return nil
}

// IsTransient reports whether a recognition error is worth retrying with a
// fresh challenge.
func IsTransient(err error) bool {
	return errors.Is(err, ErrEngineBusy)
}
