// Package discovery finds devices on the local network.
//
// Every running device announces an mDNS instance named
// DT::ONLINE::<hostname> of type _duckietown._tcp in the local. domain, with
// a JSON object as its first TXT record. Zeroconf browses for these for a
// bounded time and returns the devices seen, keyed by hostname. Static is a
// fixed Scanner for tests and for deployments that pin their fleet.
package discovery
