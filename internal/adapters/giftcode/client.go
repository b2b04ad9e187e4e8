package giftcode

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	adhttp "github.com/ohmynofan/wos-giftcode-bot/internal/adapters/http"
	"github.com/ohmynofan/wos-giftcode-bot/internal/config"
	"github.com/ohmynofan/wos-giftcode-bot/internal/domain/model"
	"github.com/ohmynofan/wos-giftcode-bot/internal/platform/logger"
	"github.com/ohmynofan/wos-giftcode-bot/pkg/utils"
)

var (
	ErrLoginFailed        = errors.New("login failed")
	ErrCaptchaRateLimited = errors.New("captcha fetch rate limited")
	ErrCaptchaUnavailable = errors.New("captcha unavailable")
)

type Player struct {
	FID          string `json:"-"`
	Nickname     string `json:"nickname"`
	Kingdom      int    `json:"kid"`
	FurnaceLevel int    `json:"stove_lv"`
	AvatarImage  string `json:"avatar_image"`
}

type Captcha struct {
	Image  []byte
	Format string
}

type playerRequest struct {
	FID  string `url:"fid"`
	Time int64  `url:"time"`
}

type captchaRequest struct {
	FID  string `url:"fid"`
	Init string `url:"init"`
	Time int64  `url:"time"`
}

type redeemRequest struct {
	FID         string `url:"fid"`
	CDK         string `url:"cdk"`
	CaptchaCode string `url:"captcha_code"`
	Time        int64  `url:"time"`
}

type apiResponse struct {
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	Msg     string          `json:"msg"`
	ErrCode errCode         `json:"err_code"`
}

type captchaData struct {
	Img string `json:"img"`
}

// errCode accepts the API's err_code as a number, a numeric string or "".
type errCode int

func (e *errCode) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*e = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		*e = 0
		return nil
	}
	*e = errCode(n)
	return nil
}

// Client speaks the gift code protocol on top of the retrying transport.
type Client struct {
	api      *adhttp.APIClient
	endpoint config.Endpoint
	signer   Signer
	log      *logger.ClassLogger
	now      func() time.Time
}

func NewClient(api *adhttp.APIClient, endpoint config.Endpoint) *Client {
	c := &Client{
		api:      api,
		endpoint: endpoint,
		signer:   Signer{Salt: endpoint.Salt},
		now:      time.Now,
	}
	c.log = logger.NewLogger(c, nil)
	return c
}

// BeginSession drops the cookies of the previous login and binds log lines
// to the account in session.
func (c *Client) BeginSession(session *model.Session) {
	c.api.ResetSession(session.AccountID, session)
	c.log = c.log.WithSession(session)
}

func (c *Client) Authenticate(ctx context.Context, fid string) (Player, error) {
	res, err := c.post(ctx, c.endpoint.PlayerURL(), playerRequest{FID: fid, Time: c.timestamp()})
	if err != nil {
		return Player{}, fmt.Errorf("player request: %w", err)
	}
	if res.Msg != "success" {
		return Player{}, fmt.Errorf("%w: %s", ErrLoginFailed, describe(res))
	}

	if !c.api.HasCookies() {
		c.log.JustLog("Login set no session cookie")
	}
	player := Player{FID: fid}
	if len(res.Data) > 0 {
		if err := json.Unmarshal(res.Data, &player); err != nil {
			c.log.JustLog(fmt.Sprintf("Could not decode player data: %v", err))
		}
	}
	return player, nil
}

func (c *Client) FetchCaptcha(ctx context.Context, fid string) (Captcha, error) {
	res, err := c.post(ctx, c.endpoint.CaptchaURL(), captchaRequest{FID: fid, Init: "0", Time: c.timestamp()})
	if err != nil {
		return Captcha{}, fmt.Errorf("captcha request: %w", err)
	}
	if isCaptchaRateLimit(int(res.ErrCode), res.Msg) {
		return Captcha{}, fmt.Errorf("%w: %s", ErrCaptchaRateLimited, describe(res))
	}
	if res.Msg != "SUCCESS" {
		return Captcha{}, fmt.Errorf("%w: %s", ErrCaptchaUnavailable, describe(res))
	}

	var data captchaData
	if err := json.Unmarshal(res.Data, &data); err != nil {
		return Captcha{}, fmt.Errorf("%w: bad data: %v", ErrCaptchaUnavailable, err)
	}
	return DecodeImage(data.Img)
}

// Redeem submits the code. Transport exhaustion is reported as a
// TransportFailure outcome; only cancellation and encoding problems are errors.
func (c *Client) Redeem(ctx context.Context, fid, code, captchaCode string) (model.Outcome, error) {
	if owner := c.api.SessionOwner(); owner != "" && owner != fid {
		return model.Outcome{Kind: model.OutcomeSessionExpired, Message: "session belongs to " + owner}, nil
	}
	req := redeemRequest{FID: fid, CDK: code, CaptchaCode: captchaCode, Time: c.timestamp()}
	res, err := c.post(ctx, c.endpoint.GiftCodeURL(), req)
	if err != nil {
		if adhttp.IsTransportFailure(err) {
			return model.Outcome{Kind: model.OutcomeTransportFailure, Message: err.Error()}, nil
		}
		return model.Outcome{}, fmt.Errorf("gift code request: %w", err)
	}
	outcome := Classify(int(res.ErrCode), res.Msg)
	c.log.JustLog(fmt.Sprintf("Redeem %s for %s: %s", code, fid, outcome))
	return outcome, nil
}

func (c *Client) post(ctx context.Context, endpoint string, params interface{}) (apiResponse, error) {
	values, err := utils.URLValues(params)
	if err != nil {
		return apiResponse{}, err
	}
	form, err := c.signer.SignValues(values)
	if err != nil {
		return apiResponse{}, fmt.Errorf("sign request: %w", err)
	}

	raw, err := c.api.Fetch(ctx, endpoint, &adhttp.FetchOptions{Method: "POST", Form: form})
	if err != nil {
		return apiResponse{}, err
	}

	var res apiResponse
	if err := adhttp.DecodeInto(raw, &res); err != nil {
		return apiResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return res, nil
}

func (c *Client) timestamp() int64 {
	return c.now().UnixMilli()
}

func describe(res apiResponse) string {
	if res.ErrCode != 0 {
		return fmt.Sprintf("%s (err_code %d)", res.Msg, int(res.ErrCode))
	}
	if res.Msg == "" {
		return "empty response"
	}
	return res.Msg
}

// DecodeImage decodes a base64 challenge, with or without a data URI prefix.
func DecodeImage(encoded string) (Captcha, error) {
	encoded = strings.TrimSpace(encoded)
	format := ""
	if strings.HasPrefix(encoded, "data:") {
		comma := strings.IndexByte(encoded, ',')
		if comma < 0 {
			return Captcha{}, fmt.Errorf("%w: malformed data uri", ErrCaptchaUnavailable)
		}
		header := encoded[len("data:"):comma]
		encoded = encoded[comma+1:]
		if mime, _, _ := strings.Cut(header, ";"); strings.HasPrefix(mime, "image/") {
			format = strings.TrimPrefix(mime, "image/")
		}
	}
	if encoded == "" {
		return Captcha{}, fmt.Errorf("%w: empty image", ErrCaptchaUnavailable)
	}

	img, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		img, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return Captcha{}, fmt.Errorf("%w: bad base64: %v", ErrCaptchaUnavailable, err)
		}
	}
	if format == "" {
		format = sniffFormat(img)
	}
	if format == "jpeg" {
		format = "jpg"
	}
	return Captcha{Image: img, Format: format}, nil
}

func sniffFormat(b []byte) string {
	switch {
	case len(b) >= 8 && string(b[1:4]) == "PNG":
		return "png"
	case len(b) >= 3 && b[0] == 0xFF && b[1] == 0xD8:
		return "jpg"
	case len(b) >= 6 && string(b[:3]) == "GIF":
		return "gif"
	case len(b) >= 2 && string(b[:2]) == "BM":
		return "bmp"
	case len(b) >= 12 && string(b[8:12]) == "WEBP":
		return "webp"
	}
	return "png"
}
