// Package imgserve serves colorgram images to the form submitter.
//
// The data endpoint answers exactly one JSON request per WebSocket
// connection, then closes it:
//
//	client                               server
//	  |  GET /data (upgrade)               |
//	  |----------------------------------->|
//	  |  {"action":"get", ...}             |
//	  |----------------------------------->|  Catalog lookup
//	  |  {"status":200,"found":{...}}      |
//	  |<-----------------------------------|
//	  |  close 1000                        |
//	  |<-----------------------------------|
//
// Supported actions are "get", "list_experiments" and "list_image_urls".
// Every reply carries an integer "status" that mirrors HTTP semantics: 200
// on success, 400 for malformed requests or missing keys, 404 when nothing
// matched or the action is unknown, and 500 when the catalog failed.
//
// Experiment definitions are also served as JSON from their CSV sources at
// /experiments/{name}.
package imgserve
