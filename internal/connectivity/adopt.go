package connectivity

import (
	"airsense/internal/buildinfo"
	"airsense/internal/network"
	"airsense/internal/schema"
)

// Adopt builds the self-description document published retained on every
// connect and served by the status API.
func (o *Orchestrator) Adopt() schema.Document {
	fw := buildinfo.Current()

	o.mu.RLock()
	configFrag := o.configFrag.Clone()
	commandFrag := o.commandFrag.Clone()
	networkUp := o.state.NetworkUp
	o.mu.RUnlock()

	ip := network.IPText(nil)
	if networkUp {
		// the link may drop after the state was read
		if addr := o.deps.Link.IP(); addr != nil {
			ip = addr.String()
		}
	}

	doc := schema.Document{
		"firmware": schema.Document{
			"name":      fw.Name,
			"shortName": fw.ShortName,
			"maker":     fw.Maker,
			"version":   fw.Version,
			"githubUrl": fw.GithubURL,
		},
		"network": schema.Document{
			"mode": o.deps.Link.Mode(),
			"ip":   ip,
			"mac":  o.MACText(),
		},
	}

	if o.deps.Counters != nil {
		c := o.deps.Counters()
		doc["system"] = schema.Document{
			"heapUsedBytes":       c.HeapUsedBytes,
			"heapFreeBytes":       c.HeapFreeBytes,
			"heapMaxAllocBytes":   c.HeapMaxAllocBytes,
			"fileSystemUsedBytes": c.FileSystemUsedBytes,
			"goroutines":          c.Goroutines,
			"uptimeSeconds":       c.UptimeSeconds,
		}
	}

	doc["configSchema"] = schema.Envelope(fw.ShortName, configFrag)

	// restart is built in and written last so a fragment cannot replace it
	commands := schema.Document{}
	schema.Merge(commands, commandFrag)
	commands["restart"] = schema.BooleanProperty("Restart")
	doc["commandSchema"] = schema.Envelope(fw.ShortName, commands)

	return doc
}
