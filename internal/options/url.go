package options

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// FromURL parses a connection URL into Options.
//
// Supported schemes are smtp (plain or STARTTLS) and smtps (implicit TLS).
// Userinfo becomes Auth. Query parameters map to the remaining fields:
// name, service, secure, ignoreTLS, requireTLS, tls.rejectUnauthorized,
// tls.servername, connectionTimeout, greetingTimeout and socketTimeout.
func FromURL(raw string) (Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Options{}, fmt.Errorf("invalid connection url: %w", err)
	}

	var o Options
	switch strings.ToLower(u.Scheme) {
	case "smtp":
		o.Secure = Bool(false)
	case "smtps":
		o.Secure = Bool(true)
	default:
		return Options{}, fmt.Errorf("unsupported connection url scheme %q", u.Scheme)
	}

	o.Host = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Options{}, fmt.Errorf("invalid port %q in connection url", p)
		}
		o.Port = port
	}

	if u.User != nil {
		pass, _ := u.User.Password()
		o.Auth = &Auth{User: u.User.Username(), Pass: pass}
	}

	if err := applyQuery(&o, u.Query()); err != nil {
		return Options{}, err
	}
	return o, nil
}

func applyQuery(o *Options, q url.Values) error {
	for key, values := range q {
		if len(values) == 0 {
			continue
		}
		v := values[len(values)-1]
		var err error
		switch strings.ToLower(key) {
		case "name":
			o.Name = v
		case "service":
			o.Service = v
		case "secure":
			var b bool
			if b, err = strconv.ParseBool(v); err == nil {
				o.Secure = Bool(b)
			}
		case "ignoretls":
			o.IgnoreTLS, err = strconv.ParseBool(v)
		case "requiretls":
			o.RequireTLS, err = strconv.ParseBool(v)
		case "tls.rejectunauthorized":
			var b bool
			if b, err = strconv.ParseBool(v); err == nil {
				o.TLS.InsecureSkipVerify = !b
			}
		case "tls.servername":
			o.TLS.ServerName = v
		case "connectiontimeout":
			o.ConnectionTimeout, err = parseTimeout(v)
		case "greetingtimeout":
			o.GreetingTimeout, err = parseTimeout(v)
		case "sockettimeout":
			o.SocketTimeout, err = parseTimeout(v)
		}
		if err != nil {
			return fmt.Errorf("invalid value %q for %s: %w", v, key, err)
		}
	}
	return nil
}

// parseTimeout accepts a Go duration ("30s") or a bare number of milliseconds.
func parseTimeout(v string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}
