// Package workspace registers dynamic preview apps for arbitrary
// project directories based on a config file in the project root.
package workspace
