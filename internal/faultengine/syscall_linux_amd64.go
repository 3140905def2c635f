//go:build linux && amd64

package faultengine

const sysUserfaultfd = 323
