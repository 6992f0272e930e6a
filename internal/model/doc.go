// Package model defines the notification types shared across the repairlink client.
//
// Inbound real-time messages arrive as an Envelope ({type, data}). The type tag is
// classified into a closed set of Kinds at the boundary; any tag the client does not
// recognise becomes KindGeneric so a message is never dropped.
//
// Conventions:
//   - Budgets: whole rupees as sent by the marketplace API
//   - Timestamps: time.Time in local receive time
//   - IDs: server-provided "id"/"_id" when present, otherwise a client-side UUID
package model
