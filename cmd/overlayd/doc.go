// Command overlayd runs a headless HTML overlay.
//
// Commands:
//
//	overlayd serve   Serve the REST API and /stream WebSocket
//	overlayd eval    Load one page, evaluate a script, print the result
//	overlayd assets  List local pages under the asset root
//
// Configuration comes from defaults, then an optional YAML or TOML file
// (--config), then OVERLAY_* environment variables, then flags.
package main
