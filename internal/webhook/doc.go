// Package webhook serves signed HTTP endpoints that submit tasks.
//
// Each endpoint is bound to a task template. A POST whose body carries a
// valid HMAC-SHA256 signature submits that template, with any of location,
// priority, target_ref and metadata from the JSON body laid over it. Other
// body fields are ignored, so providers can post their native payloads.
//
// # Request Flow
//
//  1. HTTP POST arrives at a configured path
//  2. Body size checked (413 if too large)
//  3. Signature header extracted and verified in constant time (403)
//  4. Body overlaid on the template and validated (400)
//  5. Task submitted; 202 Accepted with task_id
//
// Signature failures always answer a generic 403 and never echo details.
//
// # Configuration
//
//	webhooks:
//	  enabled: true
//	  listen: "127.0.0.1:8081"
//	  endpoints:
//	    - path: /hooks/alarm
//	      secret: ${ALARM_WEBHOOK_SECRET}
//	      signature_header: X-Hub-Signature-256
//	      max_body_size: 64KB
//	      task:
//	        pool: trucks
//	        type: alarm
//	        priority: 10
//	        travel_seconds: 60
//	        process_seconds: 120
//	        return_seconds: 60
package webhook
