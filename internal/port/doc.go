// Package port checks host port availability for the dashboard.
//
// The dashboard searches 8050..8999 for a port it can bind and falls back to
// 8050 when none is free. The launcher runs the same search up front
// (Scanner.PickDashboardPort) so it can print the URL, export the port to
// the child and publish it from a container.
package port
