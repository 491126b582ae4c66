// Package appfs embeds the files shipped inside the binaries: SQL migrations & email templates.
package appfs

import "embed"

//go:embed migrations/*.sql templates/email/*
var FS embed.FS
