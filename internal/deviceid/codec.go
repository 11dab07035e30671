// Package deviceid issues and verifies the device identity token carried in
// the deviceId cookie.  The token is independent of login state: it names a
// browser, not an account.
package deviceid

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/scrypt"

	"github.com/iliyamo/reservation-admin/internal/apperr"
	"github.com/iliyamo/reservation-admin/internal/utils"
)

// CookieName is the cookie the token travels in.
const CookieName = "deviceId"

// TokenLifetime is how long a token stays valid once issued.
const TokenLifetime = 365 * 24 * time.Hour

var keySalt = []byte("reservation-admin/device-id")

// Identity is the result of IssueOrValidate.  Issued is true when Token is
// new and must be sent back to the client.
type Identity struct {
	ID     string
	Token  string
	Issued bool
}

// Codec encodes id + "." + hmac(id) and seals it with securecookie
// (AES-256 + HMAC-SHA256).
type Codec struct {
	macKey []byte
	sc     *securecookie.SecureCookie
	now    func() time.Time
}

// NewCodec derives the encryption key from encryptSecret with scrypt.  Both
// secrets are required.
func NewCodec(macSecret, encryptSecret string) (*Codec, error) {
	const op = "deviceid.new_codec"
	if macSecret == "" || encryptSecret == "" {
		return nil, apperr.New(apperr.KindConfiguration, op, "DEVICE_ID_SECRET and DEVICE_ID_ENCRYPT must be set")
	}
	blockKey, err := scrypt.Key([]byte(encryptSecret), keySalt, 1<<14, 8, 1, 32)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, op, err)
	}
	outerMAC := sha256.Sum256([]byte("outer:" + macSecret))
	sc := securecookie.New(outerMAC[:], blockKey)
	sc.MaxAge(int(TokenLifetime / time.Second))
	sc.SetSerializer(securecookie.JSONEncoder{})
	return &Codec{macKey: []byte(macSecret), sc: sc, now: time.Now}, nil
}

// IssueOrValidate returns the id embedded in presented when the token
// decrypts and its inner MAC matches.  Otherwise it issues a new id salted
// with sourceIP.  Decode failures are never reported; only an encoding
// failure is an error.
func (c *Codec) IssueOrValidate(presented, sourceIP string) (Identity, error) {
	if presented != "" {
		if id, ok := c.Decode(presented); ok {
			return Identity{ID: id, Token: presented}, nil
		}
	}
	id, err := c.newID(sourceIP)
	if err != nil {
		return Identity{}, err
	}
	token, err := c.Encode(id)
	if err != nil {
		return Identity{}, err
	}
	return Identity{ID: id, Token: token, Issued: true}, nil
}

// Encode seals id into a token.
func (c *Codec) Encode(id string) (string, error) {
	payload := id + "." + c.sign(id)
	token, err := c.sc.Encode(CookieName, payload)
	if err != nil {
		return "", apperr.Wrap(apperr.KindConfiguration, "deviceid.encode", err)
	}
	return token, nil
}

// Decode opens a token and verifies the embedded MAC.
func (c *Codec) Decode(token string) (string, bool) {
	var payload string
	if err := c.sc.Decode(CookieName, token, &payload); err != nil {
		return "", false
	}
	i := strings.LastIndexByte(payload, '.')
	if i <= 0 || i == len(payload)-1 {
		return "", false
	}
	id, mac := payload[:i], payload[i+1:]
	want, err := hex.DecodeString(c.sign(id))
	if err != nil {
		return "", false
	}
	got, err := hex.DecodeString(mac)
	if err != nil || !hmac.Equal(want, got) {
		return "", false
	}
	return id, true
}

func (c *Codec) sign(id string) string {
	m := hmac.New(sha256.New, c.macKey)
	m.Write([]byte(id))
	return hex.EncodeToString(m.Sum(nil))
}

// newID is sha256(ip-ts-rand-secret).
func (c *Codec) newID(sourceIP string) (string, error) {
	if sourceIP == "" {
		sourceIP = "0.0.0.0"
	}
	salt, err := utils.RandomHex(16)
	if err != nil {
		return "", fmt.Errorf("device id entropy: %w", err)
	}
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	return utils.SHA256Hex(sourceIP + "-" + ts + "-" + salt + "-" + string(c.macKey)), nil
}
