package protocol

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type Marshaler interface {
	Marshal() ([]byte, error)
}

type Unmarshaler interface {
	Unmarshal(data []byte) error
}

type Marshalable interface {
	Marshaler
	Unmarshaler
}

// ConnectOptions is the JSON body of the CONNECT handshake.
type ConnectOptions struct {
	Verbose     bool
	Pedantic    bool
	SSLRequired bool

	AuthToken string
	User      string
	Pass      string

	Name    string
	Lang    string
	Version string
}

// Marshal encodes the options in a fixed field order. Empty credentials and
// an empty name are left out.
func (o ConnectOptions) Marshal() (body []byte, err error) {
	body = []byte("{}")

	set := func(path string, value interface{}) {
		if err != nil {
			return
		}

		body, err = sjson.SetBytes(body, path, value)
	}

	set("verbose", o.Verbose)
	set("pedantic", o.Pedantic)
	set("ssl_required", o.SSLRequired)

	if o.AuthToken != "" {
		set("auth_token", o.AuthToken)
	}

	if o.User != "" {
		set("user", o.User)
		set("pass", o.Pass)
	}

	if o.Name != "" {
		set("name", o.Name)
	}

	set("lang", o.Lang)
	set("version", o.Version)

	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidConnectField)
	}

	return body, nil
}

// Unmarshal reads a CONNECT body, used by test servers to inspect handshakes.
func (o *ConnectOptions) Unmarshal(data []byte) error {
	if !gjson.ValidBytes(data) {
		return ErrInvalidConnectField
	}

	r := gjson.ParseBytes(data)

	*o = ConnectOptions{
		Verbose:     r.Get("verbose").Bool(),
		Pedantic:    r.Get("pedantic").Bool(),
		SSLRequired: r.Get("ssl_required").Bool(),
		AuthToken:   r.Get("auth_token").String(),
		User:        r.Get("user").String(),
		Pass:        r.Get("pass").String(),
		Name:        r.Get("name").String(),
		Lang:        r.Get("lang").String(),
		Version:     r.Get("version").String(),
	}

	return nil
}

var _ Marshalable = (*ConnectOptions)(nil)
