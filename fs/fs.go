package appfs

import "embed"

// FS embeds the non-Go files the app needs at runtime:
// DB migrations, email templates and static assets.
//go:embed migrations templates assets
var FS embed.FS
