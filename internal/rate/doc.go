// Package rate implements fixed-window Redis counters for login and refresh
// throttling.
//
// Keys:
//   - rl:login:u:<email>  failed logins per account
//   - rl:login:ip:<ip>    failed logins per client IP
//   - rl:refresh:f:<id>   rotations per token family
package rate
