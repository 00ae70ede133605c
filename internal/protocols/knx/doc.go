// Package knx drives KNX group communication through the knxd daemon.
//
// Links use the knxd socket protocol (2-byte size, 2-byte type) in
// EIB_OPEN_GROUPCON mode. A controller is a KNX device described by the
// group addresses of its functions:
//
//	controllers:
//	  - name: "living-dimmer"
//	    params:
//	      functions: "switch=1/0/1:1.001;level=1/0/2:5.001"
//
// Reads wait for the GroupValue_Response on the same group address; other
// bus traffic arriving meanwhile is skipped. Writes are unacknowledged.
package knx
