/*
Package security issues the certificates for mutual TLS between sweep
coordinators and workers.

A CertAuthority is created once with "sweep certs init" and kept in a
directory holding ca.crt and the owner-only ca.key. Every coordinator and
worker then gets a directory with its own key pair and a copy of the CA
certificate:

	certs/
	├── ca.crt
	├── node.crt
	└── node.key

Files maps such a directory onto api.TLSFiles, which configures the gRPC
listener to require client certificates signed by the CA and workers to
verify the coordinator against it. Node certificates carry both the
client and server authentication usages.

Root certificates are valid for ten years with RSA 4096 keys; node
certificates for 90 days with RSA 2048 keys. CertNeedsRotation reports a
certificate with less than 30 days left.
*/
package security
