// Package raster defines the canonical spatial and temporal addressing used
// by every pipeline stage: the target Grid, single-capture Tiles, the
// (date × row × col × band) Cube, and the ValidityMask that travels with it.
//
// All arrays are flat and row-major. Missing samples are represented by NaN
// ("no data"), which is distinct from a masked-invalid observation: a NaN
// cell never had a contributing sample, while a masked cell has a sample
// that must not be trusted.
package raster
