/*
Package cleanup runs the periodic storage sweeps: aged uploads and
downloads, stale temp files, and terminal jobs past their retention
window together with their artifacts and rows. Sweeps run on a single
ticker and are safe to stop mid-cycle.
*/
package cleanup
