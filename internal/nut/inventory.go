package nut

import (
	gonut "github.com/robbiet480/go.nut"
)

// Inventory returns the names of every UPS that upsd at t advertises via
// LIST UPS. It is used for configuration checks, not for collection.
func Inventory(t Target) ([]string, error) {
	conn, err := gonut.Connect(t.Host, t.Port)
	if err != nil {
		return nil, &Error{Kind: ErrConnection, Server: t.Addr(), Err: err}
	}
	defer func() { _, _ = conn.Disconnect() }()

	if t.hasCredentials() {
		if _, err := conn.Authenticate(t.Username, t.Password); err != nil {
			return nil, &Error{Kind: ErrAuth, Server: t.Addr(), Err: err}
		}
	}

	upsList, err := conn.GetUPSList()
	if err != nil {
		return nil, &Error{Kind: ErrProtocol, Server: t.Addr(), Err: err}
	}
	names := make([]string, len(upsList))
	for i := range upsList {
		names[i] = upsList[i].Name
	}
	return names, nil
}

// MissingUPS returns the entries of configured that are absent from
// advertised, in configured order. Empty names are ignored.
func MissingUPS(configured, advertised []string) []string {
	known := make(map[string]struct{}, len(advertised))
	for _, n := range advertised {
		known[n] = struct{}{}
	}
	var missing []string
	for _, n := range configured {
		if n == "" {
			continue
		}
		if _, ok := known[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}
