// Package rpmhub contains the shared data types passed between the
// components that make up the dependency-aware package builder: spec
// parsing, name canonicalization, dependency resolution, and build
// orchestration against an external build hub.
package rpmhub
