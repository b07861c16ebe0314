// Package mail sends the two security alerts raised by authcore: the
// new-device notice with trust/revoke links and the refresh replay notice.
package mail
