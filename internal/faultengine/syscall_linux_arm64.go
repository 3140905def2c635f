//go:build linux && arm64

package faultengine

const sysUserfaultfd = 282
