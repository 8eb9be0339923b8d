/*
Package codec provides wire encodings for EvalStateResult.

JSON is canonical: the cache and the apiserver both default to it, and the
round-trip determinism guarantee (serialize(deserialize(x)) == x) is defined
against json.Marshal's output. Msgpack is offered as a denser alternative for
large states; since it has no equivalent of OrderedMap's custom JSON methods,
it carries insertion order as an explicit key slice alongside a plain map.
*/
package codec
