//go:build tools

// Tool dependencies pinned in go.mod for the lint, test and release workflow.
package tools

import (
	// Lint and static analysis.
	_ "github.com/fzipp/gocyclo/cmd/gocyclo"
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "golang.org/x/tools/cmd/goimports"
	_ "golang.org/x/vuln/cmd/govulncheck"
	_ "honnef.co/go/tools/cmd/staticcheck"

	// Tests and mocks for storage.Backend and publish.Transport.
	_ "github.com/vektra/mockery/v2"
	_ "gotest.tools/gotestsum"

	// Release.
	_ "github.com/goreleaser/goreleaser"
)
