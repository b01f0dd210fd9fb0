package mqtt

import "strings"

// Topics builds the per-device topic tree:
//
//	[prefix/]conf/<id>          configuration in
//	[prefix/]cmnd/<id>          commands in
//	[prefix/]stat/<id>          status out
//	[prefix/]tele/<id>          telemetry out
//	[prefix/]stat/<id>/adopt    self-description out
//	[prefix/]stat/<id>/lwt      availability
//
// Methods return topics relative to the prefix unless noted.
type Topics struct {
	Prefix   string
	ClientID string
}

func (t Topics) Config() string    { return "conf/" + t.ClientID }
func (t Topics) Command() string   { return "cmnd/" + t.ClientID }
func (t Topics) Status() string    { return "stat/" + t.ClientID }
func (t Topics) Telemetry() string { return "tele/" + t.ClientID }
func (t Topics) Adopt() string     { return "stat/" + t.ClientID + "/adopt" }
func (t Topics) LWT() string       { return "stat/" + t.ClientID + "/lwt" }

// Full returns rel with the prefix applied
func (t Topics) Full(rel string) string {
	return joinTopic(t.Prefix, rel)
}

// Wildcard returns the prefixed topic covering every direction, as shown
// on the info screen.
func (t Topics) Wildcard() string {
	return joinTopic(t.Prefix, "+/"+t.ClientID)
}

func joinTopic(prefix, topic string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return topic
	}
	return prefix + "/" + topic
}

// Availability payloads on the LWT topic
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)
