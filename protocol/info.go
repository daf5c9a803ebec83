package protocol

import (
	"bytes"

	"github.com/tidwall/gjson"
)

// ServerInfo is the subset of the INFO greeting the client acts on. Raw keeps
// the whole blob for anything else.
type ServerInfo struct {
	ServerID     string
	Version      string
	GoVersion    string
	Host         string
	Port         int
	MaxPayload   int
	Proto        int
	AuthRequired bool
	TLSRequired  bool
	ConnectURLs  []string

	Raw []byte
}

// ParseServerInfo reads an INFO blob. Missing fields keep their zero value,
// an empty blob is treated as `{}`.
func ParseServerInfo(settings []byte) (*ServerInfo, error) {
	settings = bytes.TrimSpace(settings)
	if len(settings) == 0 {
		settings = []byte("{}")
	}

	if !gjson.ValidBytes(settings) {
		return nil, ErrInvalidServerInfo
	}

	r := gjson.ParseBytes(settings)
	if !r.IsObject() {
		return nil, ErrInvalidServerInfo
	}

	info := &ServerInfo{
		ServerID:     r.Get("server_id").String(),
		Version:      r.Get("version").String(),
		GoVersion:    r.Get("go").String(),
		Host:         r.Get("host").String(),
		Port:         int(r.Get("port").Int()),
		MaxPayload:   int(r.Get("max_payload").Int()),
		Proto:        int(r.Get("proto").Int()),
		AuthRequired: r.Get("auth_required").Bool(),
		TLSRequired:  r.Get("tls_required").Bool(),
		Raw:          append([]byte(nil), settings...),
	}

	for _, u := range r.Get("connect_urls").Array() {
		info.ConnectURLs = append(info.ConnectURLs, u.String())
	}

	return info, nil
}
