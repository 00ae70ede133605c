// Package smartsensor implements the ASCII line protocol of radar vehicle
// detectors.
//
// A request is one line addressed to a sensor by drop:
//
//	"Z0" + drop(4 hex) + command [+ checksum(2 hex)] + "\r\n"
//
// Responses are single lines. Sensors configured with the controller
// parameter "checksum=true" append the checksum to both directions. Store
// requests are answered "Success"; "Failure" and "Invalid" are reported as
// protocol faults.
package smartsensor
