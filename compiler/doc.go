/*

Process of compilation

IR Module (yaml) ->
	image-optimizer, verify, generic-to-nvvm, ... ->
IR Module (nvvm address spaces) ->
	lower-aggr-copies, isel ->
Machine IR (virtual registers, SSA) ->
	machine ssa optimizations ->
	phi-elimination, two-address ->
Machine IR (virtual registers) ->
	nvptx-prolog-epilog, expand-post-ra-pseudos ->
Instruction Stream

There is no register allocation, registers stay virtual.

*/
package compiler
