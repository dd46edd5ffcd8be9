// Package hostsignal feeds host connectivity into the engine's network
// monitor.
//
// Two sources are provided: Manual, driven by explicit calls (the CLI's
// online/offline commands), and FileSignal, which treats the presence of a
// marker file as "offline" and watches it with fsnotify. A signal that
// cannot be read degrades to online so queued work is never stranded.
package hostsignal
