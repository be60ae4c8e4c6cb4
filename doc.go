// Package enviz is the analytical core of an ensemble-visualization tool
// for time-series simulation runs such as oil-reservoir forecasts.
//
// The package aligns irregularly sampled per-entity series onto canonical
// time axes, computes per-timestep pairwise distance matrices between
// realizations, projects those matrices into 2D coordinates (MDS, LAMP and
// the temporally regularized TL-LAMP), derives per-timestep ranks against
// observed data, and coordinates a shared selection/highlight state across
// any number of linked views.
//
// Rendering, gesture handling and file-format specifics live outside this
// package. Views consume the derived structures read-only and interact
// through the SelectionCoordinator; loaders feed raw series in through the
// Source interface.
package enviz
