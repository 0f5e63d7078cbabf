// Command waveq runs the audio processing daemon and talks to it over HTTP.
//
// `waveq serve` starts the daemon. Every other command except `config`,
// `preflight`, and `test-notify` is a thin client of the daemon API and
// honors --api and --token to reach a non-default address.
package main
