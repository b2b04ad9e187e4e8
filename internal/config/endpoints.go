package config

type Endpoint struct {
	Name         string
	BaseURL      string
	Salt         string
	PlayerPath   string
	CaptchaPath  string
	GiftCodePath string
	Origin       string
}

var WhiteoutSurvival = Endpoint{
	Name:         "Whiteout Survival",
	BaseURL:      "https://wos-giftcode-api.centurygame.com/api",
	Salt:         "tB87#kPtkxqOS2",
	PlayerPath:   "/player",
	CaptchaPath:  "/captcha",
	GiftCodePath: "/gift_code",
	Origin:       "https://wos-giftcode.centurygame.com",
}

func (e Endpoint) PlayerURL() string   { return e.BaseURL + e.PlayerPath }
func (e Endpoint) CaptchaURL() string  { return e.BaseURL + e.CaptchaPath }
func (e Endpoint) GiftCodeURL() string { return e.BaseURL + e.GiftCodePath }
