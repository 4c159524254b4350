package globals

import "github.com/hashicorp/go-hclog"

var AppLogger = hclog.New(&hclog.LoggerOptions{
	Name:  "geonote-chat",
	Level: hclog.LevelFromString("DEBUG"),
})
