// Package assets embeds the files shipped inside the server binary.
package assets

import "embed"

//go:embed all:migrations
var MigrationsFS embed.FS
