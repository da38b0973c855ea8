// Package checkpoint persists run progress on a filesystem: the last
// committed page and the per-run failure log. Both are plain text so an
// operator can inspect or edit them between runs.
package checkpoint
